// Package profiles loads student profiles from YAML files.
//
// Each user has one file, <dir>/<userID>.yaml:
//
//	user:
//	  user_id: "42"
//	  name: Ada Lovelace
//	  state: CA
//	  level: undergraduate
//	  major: Marine Biology
//	  interests: [oceans, research]
//	financial:
//	  sai: 4200
//	  household_size: 4
//	  pell_eligible: true
package profiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/aidgraph/discovery"
)

// Document is the on-disk layout of a profile file.
type Document struct {
	User      discovery.UserProfile      `yaml:"user"`
	Financial discovery.FinancialProfile `yaml:"financial"`
}

// FileLoader implements discovery.ProfileLoader over a directory.
type FileLoader struct {
	dir string
}

// NewFileLoader returns a loader reading from dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

// Load reads <dir>/<userID>.yaml. A missing file wraps
// discovery.ErrUnknownUser. The user_id field defaults to userID and must
// match it when present.
func (l *FileLoader) Load(ctx context.Context, userID string) (discovery.UserProfile, discovery.FinancialProfile, error) {
	if err := ctx.Err(); err != nil {
		return discovery.UserProfile{}, discovery.FinancialProfile{}, err
	}
	if userID == "" || strings.ContainsAny(userID, `/\`) || strings.HasPrefix(userID, ".") {
		return discovery.UserProfile{}, discovery.FinancialProfile{}, fmt.Errorf("invalid user id %q", userID)
	}

	path := filepath.Join(l.dir, userID+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return discovery.UserProfile{}, discovery.FinancialProfile{}, fmt.Errorf("%w: %s", discovery.ErrUnknownUser, userID)
	}
	if err != nil {
		return discovery.UserProfile{}, discovery.FinancialProfile{}, fmt.Errorf("read profile: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return discovery.UserProfile{}, discovery.FinancialProfile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.User.UserID == "" {
		doc.User.UserID = userID
	}
	if doc.User.UserID != userID {
		return discovery.UserProfile{}, discovery.FinancialProfile{}, fmt.Errorf("%s: user_id %q does not match file name", path, doc.User.UserID)
	}
	return doc.User, doc.Financial, nil
}

// Save writes a profile file, creating dir when needed.
func (l *FileLoader) Save(doc Document) error {
	if doc.User.UserID == "" {
		return errors.New("profile has no user_id")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return os.WriteFile(filepath.Join(l.dir, doc.User.UserID+".yaml"), data, 0o600)
}

// List returns the user ids that have a profile file, for batch refreshes.
func (l *FileLoader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".yaml" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	return ids, nil
}
