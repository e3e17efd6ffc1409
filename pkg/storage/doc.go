// Package storage owns the on-disk layout of one category directory.
//
// Images are written as sequentially numbered, zero padded files
// (000001.jpg, 000002.png, ...). A Manager scans the directory first, so a
// second run into the same directory continues the numbering instead of
// overwriting. Writes go through a hidden temporary file and an atomic rename,
// and byte-identical content is refused with a DuplicateError.
//
//	manager, err := storage.NewManager(dir)
//	if err != nil {
//	    return err
//	}
//	path, err := manager.Save(body, ".jpg")
//
// CountFiles is the ground truth the batch runner uses for per-category
// results; hidden files and subdirectories are not counted.
package storage
