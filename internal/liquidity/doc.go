/*
Liquidity turns raw market samples into normalized liquidity snapshots.

# Module
  - aggregator: validates samples, keeps rolling normalization windows, scores liquidity
  - cache: latest-value slot per asset shared with the decision loop

# Source
  - market samples polled from the exchange by the per-asset sampler

# Produce
  - LiquiditySnapshot into the cache; superseded snapshots are discarded

# Sharded
  - asset
*/
package liquidity
