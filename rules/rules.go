//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ModuleLogger reports standard library logging and console printing in
// internal packages. Those packages log through logger.Global().Module(...)
// and write user-facing output to an io.Writer passed in by cmd.
func ModuleLogger(m dsl.Matcher) {
	m.Import("log")

	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`,
		`log.Fatalf($*_)`, `log.Fatal($*_)`, `log.Panicf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`)).
		Report("use the package module logger instead of the standard log package")

	m.Match(`fmt.Printf($*_)`, `fmt.Println($*_)`, `fmt.Print($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("internal packages must not print to stdout; log it or take an io.Writer")
}

// WaitGroupModernize detects goroutines that can use wg.Go (Go 1.25+).
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    doSomething()
//	}()
//
// becomes
//
//	wg.Go(doSomething)
func WaitGroupModernize(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Consider using $wg.Go() which calls Add(1) automatically")
}

// ContextTODO flags placeholder contexts. Blocking audio and network calls
// take the caller's context.
func ContextTODO(m dsl.Matcher) {
	m.Match(`context.TODO()`).
		Report("pass the caller's context instead of context.TODO()")
}

// SentinelCompare flags == comparisons against exported sentinel errors,
// which break once the error is wrapped by the enhanced error builder.
func SentinelCompare(m dsl.Matcher) {
	m.Match(`$err == $sentinel`, `$err != $sentinel`).
		Where(m["err"].Type.Is("error") && m["sentinel"].Text.Matches(`^(\w+\.)?Err[A-Z]\w*$`)).
		Report("use errors.Is($err, $sentinel) for sentinel errors")
}
