// Package exam implements the student-facing attempt lifecycle: starting or
// resuming an attempt inside a publication window, saving partial answers,
// and submitting. Submission scores objective questions immediately and hands
// open-ended ones to the grading orchestrator.
package exam
