// Package schedule evaluates calendar expressions into lazy sequences of instants.
//
// Expressions have six or seven whitespace-separated fields:
//
//	second minute hour day-of-month month day-of-week [year]
//
// The six leading fields use robfig/cron syntax. The optional year field pins an
// expression to a bounded set of years; "0 30 9 24 12 * 2026" fires exactly once.
// This is how one-shot jobs are expressed with the same type as recurring ones.
package schedule
