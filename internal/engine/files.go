package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RemoveOwned deletes the regular files in dir for which owned reports true,
// then dir itself if nothing else is left in it. Anything the engine does not
// own is left in place. A missing dir is not an error.
func RemoveOwned(dir string, owned func(name string) bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	kept := 0
	for _, e := range entries {
		if e.IsDir() || !owned(e.Name()) {
			kept++
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			kept++
		}
	}
	if kept == 0 {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Numbered reports whether name is a decimal file number followed by ext,
// such as "000012.sst" for ext ".sst".
func Numbered(name, ext string) bool {
	stem, ok := strings.CutSuffix(name, ext)
	if !ok || stem == "" {
		return false
	}
	_, err := strconv.ParseUint(stem, 10, 64)
	return err == nil
}
