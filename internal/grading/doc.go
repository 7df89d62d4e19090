// Package grading scores open-ended answers with the AI gateway.
//
// Each submitted attempt with open-ended questions gets a grading job. The
// job grades pending records one at a time, persisting each grade together
// with any mistake-book update, then recomputes the attempt total. The
// attempt is promoted to graded only when every record is graded; otherwise
// it stays submitted and a periodic sweep schedules another pass.
package grading
