// Package logger provides the structured logging interface used by imgharvest.
//
// It wraps zerolog: a human readable console writer on stderr (stdout is kept
// for the run report) and, when a log file is configured, JSON lines appended
// to that file.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("run_id", runID)
//	log.InfoWithFields("Category completed", map[string]interface{}{
//	    "category": "psoriasis",
//	    "count":    50,
//	})
//
// Components take a Logger in their constructors; tests pass NewTestLogger to
// assert on captured messages or NewNopLogger to silence output.
package logger
