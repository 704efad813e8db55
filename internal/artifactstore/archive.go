package artifactstore

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/infraweave-io/infraweave/internal/errs"
)

// zipSourceTree archives every regular file directly under dir (module
// sources are flat — no nested directories to walk, §4.2 step 6), skipping
// any name listed in exclude (module.yaml is kept out of the module
// archive since it's stored separately in the version record).
func zipSourceTree(dir string, exclude []string) ([]byte, error) {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Other(err)
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		if e.IsDir() || skip[e.Name()] {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errs.Other(err)
		}
		f, err := w.Create(e.Name())
		if err != nil {
			return nil, errs.Wrap(errs.KindZipError, err, "creating %s", e.Name())
		}
		if _, err := f.Write(content); err != nil {
			return nil, errs.Wrap(errs.KindZipError, err, "writing %s", e.Name())
		}
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.KindZipError, err, "closing archive")
	}
	return buf.Bytes(), nil
}

// unzipTerraformFiles extracts just the *.tf members of a previously
// published archive, for the structural diff against the incoming version
// (§4.2 step 7). Non-.tf members (README, examples) are irrelevant to the
// diff and skipped.
func unzipTerraformFiles(archive []byte) (map[string][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, errs.Wrap(errs.KindZipError, err, "reading archive")
	}
	files := make(map[string][]byte)
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".tf") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrap(errs.KindZipError, err, "opening %s", f.Name)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errs.Wrap(errs.KindZipError, err, "reading %s", f.Name)
		}
		files[f.Name] = content
	}
	return files, nil
}
