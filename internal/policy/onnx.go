package policy

import (
	"context"
	"runtime"
	"sync"

	"alats/internal/model"
	"alats/internal/replay"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the model and the onnxruntime shared library.
type ONNXConfig struct {
	ModelPath     string
	LibraryPath   string
	WindowSize    int
	OrderNotional decimal.Decimal
	SpoolDir      string
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			switch runtime.GOOS {
			case "windows":
				libPath = "onnxruntime.dll"
			case "darwin":
				libPath = "libonnxruntime.dylib"
			default:
				libPath = "/usr/lib/libonnxruntime.so"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXOracle evaluates an exported policy network of shape
// [1, window, features] -> [1, 3] action logits. Training happens offline:
// TrainStep only spools batches for the external trainer.
type ONNXOracle struct {
	cfg   ONNXConfig
	spool *Spool

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewONNXOracle(cfg ONNXConfig) (*ONNXOracle, error) {
	if cfg.ModelPath == "" {
		return nil, errors.Wrap(exception.ErrConfig, "onnx model path is empty")
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60
	}
	if err := initORT(cfg.LibraryPath); err != nil {
		return nil, errors.Wrap(err, "initialize onnxruntime")
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(cfg.WindowSize), model.FeatureCount), make([]float32, cfg.WindowSize*model.FeatureCount))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(actionCount)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "create session, model: %s", cfg.ModelPath)
	}

	return &ONNXOracle{
		cfg:     cfg,
		spool:   NewSpool(cfg.SpoolDir),
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Infer is not interruptible once the session runs; ctx is only checked
// before it starts.
func (o *ONNXOracle) Infer(ctx context.Context, w Window, _ model.RiskView) (model.PolicyDecision, error) {
	if err := ctx.Err(); err != nil {
		return model.PolicyDecision{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	data := o.input.GetData()
	if len(w.Features) != len(data) {
		return model.PolicyDecision{}, errors.Wrapf(exception.ErrInvalidArgument, "feature length %d, want %d", len(w.Features), len(data))
	}
	for i, f := range w.Features {
		data[i] = float32(f)
	}
	if err := o.session.Run(); err != nil {
		return model.PolicyDecision{}, errors.Wrap(err, "onnx inference")
	}

	var scores [actionCount]float64
	for i, v := range o.output.GetData()[:actionCount] {
		scores[i] = float64(v)
	}
	action, conf, size := pick(scores, o.cfg.OrderNotional)
	return model.PolicyDecision{
		Asset:      w.Asset,
		Action:     action,
		Confidence: conf,
		Size:       size,
	}, nil
}

func (o *ONNXOracle) TrainStep(ctx context.Context, batch []replay.Entry) error {
	return o.spool.Append(ctx, batch)
}

func (o *ONNXOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
	}
	if o.input != nil {
		o.input.Destroy()
	}
	if o.output != nil {
		o.output.Destroy()
	}
	return o.spool.Close()
}
