// Package harness runs scripted request transcripts against a complete
// dispatcher built on fake peripherals.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: learn_then_who
//	description: "Enrolling a face makes WHO recognise it"
//	setup:
//	  faces: [[100, 60, 80, 80]]
//	  objects: [6, 3]
//	  object_model: true
//	steps:
//	  - send: '{"req_id":1,"cmd":"LEARN","args":{"person":"OWNER_1"}}'
//	    expect:
//	      ok: true
//	      result: { status: learned }
//	  - send: '{"req_id":1,"cmd":"LEARN"}'
//	    advance_ms: 500
//	    expect:
//	      same_as: 1
//
// Each step sends one raw line. advance_ms moves the mock clock before the
// line is handled. Expectations:
//
//   - ok: the response ok flag
//   - code, message: the error code and message
//   - result: a subset of the result object
//   - same_as: the response is byte-identical to that of an earlier step
//     (1-based)
//
// # Deterministic Testing
//
// Every run uses a mock clock, a fixed session id, an in-memory card and a
// scripted accelerator, so transcripts are stable enough for golden files.
package harness
