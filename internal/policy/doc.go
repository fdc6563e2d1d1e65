/*
Policy turns liquidity windows into trading decisions.

# Module
  - engine: per-asset feature window, oracle query under a deadline, confidence filter
  - experience: links each cycle to the reward observed since and feeds the replay buffer
  - trainer: single worker draining a capacity-1 batch queue into Oracle.TrainStep
  - oracles: linear TD(0) Q-function, ONNX runtime session with an offline training spool

# Source
  - latest LiquiditySnapshot per asset
  - RiskView from the risk gate

# Produce
  - PolicyDecision to the risk gate

# Sharded
  - asset
*/
package policy
