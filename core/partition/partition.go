// Package partition splits a table's partition-value tuples into
// bounded-size chunks and synthesizes SQL predicates that target exactly
// one chunk.
//
// Catalog-backed engines cap how many partitions a single DML statement
// may touch (Athena stops at 100). Rewriting a large table therefore has
// to happen in chunks, each selected by a generated `where` clause over
// the partition columns.
package partition

import (
	"strings"
)

// AlwaysTrue is the predicate substituted for unpartitioned tables,
// where a single statement moves all data.
const AlwaysTrue = "1 = 1"

// AlwaysFalse is the degenerate predicate produced for an empty chunk.
const AlwaysFalse = "1 = 0"

// Tuple is one partition's values, ordered to match the table's
// partition columns.
type Tuple []string

// Chunks splits values into consecutive groups of at most size elements.
// Order and total element count are preserved; every chunk except
// possibly the last has exactly size elements. size must be > 0.
func Chunks[T any](values []T, size int) [][]T {
	if size <= 0 {
		panic("partition: chunk size must be > 0")
	}
	var chunks [][]T
	for i := 0; i < len(values); i += size {
		end := i + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[i:end])
	}
	return chunks
}

// Predicate builds a SQL boolean expression selecting exactly the tuples
// in chunk: one disjunct per tuple, each a conjunction of equality tests
// over columns in order. An empty chunk yields an always-false expression.
func Predicate(chunk []Tuple, columns []string) string {
	var b strings.Builder
	b.WriteString(AlwaysFalse)
	for _, tuple := range chunk {
		b.WriteString("\n    or (")
		for i, column := range columns {
			if i > 0 {
				b.WriteString(" and ")
			}
			b.WriteString(column)
			b.WriteString(" = ")
			b.WriteString(quote(tuple[i]))
		}
		b.WriteString(")")
	}
	return b.String()
}

// quote wraps a partition value as a SQL string literal, doubling any
// embedded single quotes.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
