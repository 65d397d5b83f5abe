package sqlengine

import "runtime"

// Here captures the caller's (file, line) as a StatementID, standing in
// for the SQLITE_FROM_HERE call-site macro of the C++ original. Callers
// use it as: stmt, err := conn.Rent(ctx, sqlengine.Here(), query).
func Here() StatementID {
	_, file, line, _ := runtime.Caller(1)
	return StatementID{File: file, Line: line}
}
