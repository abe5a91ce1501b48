package consts

// Version is stamped into /health so the scheduler can gate on protocol
// compatibility before driving executions.
const Version = "0.3.1"
