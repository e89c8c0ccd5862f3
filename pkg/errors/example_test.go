package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// Example demonstrates creating a classified connector fault.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to source").
		WithDetail("host", "db.internal").
		WithDetail("port", 3306)

	fmt.Println(err.Error())
	fmt.Println("retryable:", errors.IsRetryable(err))

	// Output:
	// connection: failed to connect to source
	// retryable: true
}

// ExampleWrap shows wrapping a driver error with a sync category.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeTransient, "read batch 4 of orders").
		WithDetail("table", "orders")

	fmt.Println(errors.IsType(err, errors.ErrorTypeTransient))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// true
	// true
}

// ExampleIsFatal shows how the retry controller separates fatal faults.
func ExampleIsFatal() {
	deadlock := errors.New(errors.ErrorTypeTransient, "deadlock detected")
	duplicate := errors.New(errors.ErrorTypeFatal, "duplicate key value violates unique constraint")
	unknown := io.EOF

	fmt.Println(errors.IsFatal(deadlock))
	fmt.Println(errors.IsFatal(duplicate))
	fmt.Println(errors.IsFatal(unknown))

	// Output:
	// false
	// true
	// true
}
