// Package executor runs untrusted submissions against ordered test cases and
// returns one result per test case, in input order.
package executor

import (
	"codexec/internal/executor/profile"
	"codexec/internal/executor/result"
)

type (
	LanguageID = profile.LanguageID
	TestCase   = result.TestCase
	TestResult = result.TestResult
)

const (
	JavaScript = profile.JavaScript
	Python     = profile.Python
	SQL        = profile.SQL
	Java       = profile.Java
	Cpp        = profile.Cpp
)
