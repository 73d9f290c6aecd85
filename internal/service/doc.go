// Package service drives a burn-in run.
//
// Overview
// A Run is a resolved device profile, an ordered plan of stages and a run
// mode. The Supervisor walks the plan once, strictly one stage at a time,
// and records every transition in the run log.
//
// Data flow:
//
//   Supervisor              Executor                 Device
//       |                      |                       |
//   header "Starting X"        |                       |
//       | start -------------->| Start() ------------->| smartctl -t / badblocks
//       | wait --------------->| Sleep + poll.Await -->| smartctl -c (repeated)
//       | harvest ------------>| Harvest() ----------->| smartctl -l / report
//   "X finished: <status>"     |                       |
//
// The Executor is chosen once per run. In simulate mode none of the three
// actions is invoked, so a dry run neither touches the device nor sleeps.
//
// Invariants:
//   - A stage which does not apply to the device is logged as skipped and
//     never started.
//   - Every started stage gets exactly one begin header and one end line,
//     whatever its outcome.
//   - Failed and timed out stages do not stop the plan. Only an executor
//     fault does, and Do returns it wrapped in ErrRunAborted.
//   - The Supervisor never inspects tool output.
package service
