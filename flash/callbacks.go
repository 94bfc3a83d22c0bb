package flash

import "time"

// Progress describes the state of a flash after a unit has been committed.
// Passed to ProgressCallback once per unit.
type Progress struct {
	// Partition is the partition being written
	Partition string

	// Strategy is the transfer strategy chosen for the source
	Strategy Strategy

	// CurrentUnit is the number of units committed so far (1-based)
	CurrentUnit int

	// TotalUnits is the total number of units in the transfer
	TotalUnits int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of bytes downloaded so far,
	// including synthesized sparse headers
	BytesWritten int64

	// ElapsedTime is the time elapsed since the flash started
	ElapsedTime time.Duration
}

// ProgressCallback is called synchronously after each unit is committed.
// It must return quickly. A panic inside the callback is recovered and logged
// and does not abort the flash.
//
// Example:
//
//	f := flash.New(session,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("[%s] %d/%d (%.0f%%)\n",
//	            p.Partition, p.CurrentUnit, p.TotalUnits, p.Percentage)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the flasher.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	f := flash.New(session, flash.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
