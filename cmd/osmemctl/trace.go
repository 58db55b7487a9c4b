package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type opKind int

const (
	opAlloc opKind = iota
	opCalloc
	opRealloc
	opFree
)

var opKindMapping = map[opKind]string{
	opAlloc:   "alloc",
	opCalloc:  "calloc",
	opRealloc: "realloc",
	opFree:    "free",
}

func (k opKind) String() string {
	return opKindMapping[k]
}

// traceOp is a single line of an allocation trace
type traceOp struct {
	Line  int
	Kind  opKind
	ID    string
	Count int
	Size  int
}

// parseTrace reads one operation per line:
//
//	alloc <id> <size>
//	calloc <id> <count> <size>
//	realloc <id> <size>
//	free <id>
//
// Blank lines and lines starting with # are skipped.
func parseTrace(r io.Reader) ([]traceOp, error) {
	var ops []traceOp

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		op, err := parseOp(lineNumber, strings.Fields(line))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read trace")
	}

	return ops, nil
}

func parseOp(lineNumber int, fields []string) (traceOp, error) {
	op := traceOp{Line: lineNumber}

	var argCount int
	switch fields[0] {
	case "alloc":
		op.Kind = opAlloc
		argCount = 2
	case "calloc":
		op.Kind = opCalloc
		argCount = 3
	case "realloc":
		op.Kind = opRealloc
		argCount = 2
	case "free":
		op.Kind = opFree
		argCount = 1
	default:
		return op, errors.Newf("unknown operation %q", fields[0])
	}

	if len(fields)-1 != argCount {
		return op, errors.Newf("%s expects %d argument(s), got %d", op.Kind, argCount, len(fields)-1)
	}
	op.ID = fields[1]

	numbers := make([]int, 0, 2)
	for _, field := range fields[2:] {
		number, err := strconv.Atoi(field)
		if err != nil {
			return op, errors.Wrapf(err, "invalid %s argument", op.Kind)
		}
		numbers = append(numbers, number)
	}

	switch op.Kind {
	case opAlloc, opRealloc:
		op.Size = numbers[0]
	case opCalloc:
		op.Count = numbers[0]
		op.Size = numbers[1]
	}

	return op, nil
}
