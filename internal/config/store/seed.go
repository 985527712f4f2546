// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"landscape.router/core/internal/errors"
)

const initLockName = "init_lock"

const initLockWarning = `This file marks that landscape-router has already completed first-boot
seeding of its configuration repositories. Do not delete it: doing so
will cause landscape_init.hcl to be re-applied on the next start,
overwriting any configuration made since first boot.
`

// NeedsSeed reports whether first-boot seeding should run: the
// init_lock sentinel is absent in stateDir (spec §6).
func NeedsSeed(stateDir string) (bool, error) {
	_, err := os.Stat(filepath.Join(stateDir, initLockName))
	if err == nil {
		return false, nil
	}
	if os.IsNotExist(err) {
		return true, nil
	}
	return false, errors.Wrapf(err, errors.KindRepository, "stat init_lock")
}

// WriteInitLock writes the sentinel marking first-boot seeding as
// complete. Called unconditionally on first boot, whether or not
// landscape_init.hcl was present (§6: "writes the sentinel and, if
// landscape_init.hcl exists, seeds the repositories from it;
// otherwise leaves them empty").
func WriteInitLock(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return errors.Wrapf(err, errors.KindRepository, "create state dir")
	}
	path := filepath.Join(stateDir, initLockName)
	if err := os.WriteFile(path, []byte(initLockWarning), 0o644); err != nil {
		return errors.Wrapf(err, errors.KindRepository, "write init_lock")
	}
	return nil
}

// DecodeManifest decodes landscape_init.hcl (or any HCL seed file) at
// path into out, following the teacher's hclsimple.Decode idiom
// (internal/config/hcl.go). out must be a pointer to a struct whose
// fields carry `hcl:"...,block"` tags, one per seedable entity kind.
// A missing file is not an error: seeding is optional (§6).
func DecodeManifest(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, errors.KindRepository, "read seed manifest %s", path)
	}
	if err := hclsimple.Decode(filepath.Base(path), data, nil, out); err != nil {
		return false, errors.Wrapf(err, errors.KindConfigRefusal, "decode seed manifest %s", path)
	}
	return true, nil
}


