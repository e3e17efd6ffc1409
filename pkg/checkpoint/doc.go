// Package checkpoint persists the completed categories of a batch run so an
// interrupted run can resume without repeating finished work.
//
// A checkpoint is keyed by the category file, engine, per-category limit and
// output root. Failed categories are never recorded and run again on resume.
//
// Checkpoints are stored in platform-specific data directories:
//   - Linux: ~/.local/share/imgharvest/checkpoints/
//   - macOS: ~/Library/Application Support/imgharvest/checkpoints/
//   - Windows: %APPDATA%/imgharvest/checkpoints/
//
// Files are written atomically and carry a format version.
package checkpoint
