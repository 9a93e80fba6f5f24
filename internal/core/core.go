/*
Core composes the execution and compliance subsystems behind one
submission path.

# Module
  - order manager: per-order lifecycle machines
  - position tracker: local net positions with VWAP cost
  - guardian: anomaly detectors driving the supervisory mode
  - compliance throttle: per-account frequency levels gating submission
  - audit tracker: append-only JSONL record of every transition

# Gate order on submission
 1. supervisory mode (RUNNING, or REDUCE_ONLY for closes)
 2. compliance throttle (BLOCK rejects, SLOW/CRITICAL delay)
 3. order lifecycle creation
 4. broker transport

# Produce
  - audit events for every state, mode, level, and reconcile change
  - execution summaries archived to bounded history
*/
package core
