package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
)

// FileChecker allows chaining multiple checks on a file path.
type FileChecker struct {
	Path   string
	Checks []func(string) error
}

// NewFileChecker creates a FileChecker for the given path.
func NewFileChecker(path string) *FileChecker {
	return &FileChecker{Path: path, Checks: []func(string) error{}}
}

// Check runs all checks on the FileChecker's path and returns every failure.
func (fc *FileChecker) Check() error {
	errors := MultiError{}
	for _, check := range fc.Checks {
		if err := check(fc.Path); err != nil {
			AppendErr(&errors, err)
		}
	}
	return errors.ErrOrNil()
}

// IsFile adds a check that the path is a regular file.
func (fc *FileChecker) IsFile() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		info, err := getInfo(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("expected regular file: %s", path)
		}
		return nil
	})
	return fc
}

// NotExists adds a check that nothing exists at the path.
func (fc *FileChecker) NotExists() *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		if _, err := os.Lstat(path); err == nil {
			return fmt.Errorf("expected %s to not exist", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		return nil
	})
	return fc
}

// ModeEquals adds a check that the path has the specified permission bits.
func (fc *FileChecker) ModeEquals(perm os.FileMode) *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		info, err := getInfo(path)
		if err != nil {
			return err
		}
		if got := info.Mode().Perm(); got != perm.Perm() {
			return fmt.Errorf("mode mismatch for %s: want %o got %o", path, perm.Perm(), got)
		}
		return nil
	})
	return fc
}

// JSONContent adds a check that the file decodes to the same JSON value as want.
func (fc *FileChecker) JSONContent(want string) *FileChecker {
	fc.Checks = append(fc.Checks, func(path string) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var gotValue, wantValue interface{}
		if err := json.Unmarshal(b, &gotValue); err != nil {
			return fmt.Errorf("file %s is not json: %w", path, err)
		}
		if err := json.Unmarshal([]byte(want), &wantValue); err != nil {
			return fmt.Errorf("expected value is not json: %w", err)
		}
		if !reflect.DeepEqual(gotValue, wantValue) {
			return fmt.Errorf("file %s content mismatch\nwant:\n%s\n\ngot:\n%s", path, want, b)
		}
		return nil
	})
	return fc
}

func getInfo(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("path does not exist: %s", path)
		}
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}
	return info, nil
}
