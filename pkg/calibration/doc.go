// Package calibration implements the refrigerator/freezer probe calibration
// controller. It contains:
//
//   - State: the progress of a session (unstable -> stable -> calibrated)
//   - Controller: the timer-driven state machine that nulls probe offsets
//     against a reference thermometer and tracks compressor cycles
//   - CycleLog: the append-only list of compressor cycle records
//   - Status: a synthesized view model returned by HTTP APIs and the CLI
//
// The controller consumes a ProbeSource (cached telemetry) and an Actuator
// (offset writes). All timer callbacks are serialized on one goroutine by
// Controller.Run.
package calibration
