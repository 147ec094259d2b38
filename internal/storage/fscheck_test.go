package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsType  string
		detErr  error
		wantErr string
	}{
		{name: "local ext4", fsType: "0xef53"},
		{name: "local apfs", fsType: "apfs"},
		{name: "nfs", fsType: "nfs", wantErr: `network filesystem "nfs"`},
		{name: "smbfs uppercase", fsType: "SMBFS", wantErr: "journal.path"},
		{name: "unsupported platform", detErr: errDetectUnsupported},
		{name: "statfs failure", detErr: errors.New("permission denied"), wantErr: "permission denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "journal.db")
			err := checkFilesystem(path, func(string) (string, error) { return tt.fsType, tt.detErr })
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckFilesystemInspectsNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkFilesystem(filepath.Join(root, "a", "b", "journal.db"), func(p string) (string, error) {
		inspected = p
		return "apfs", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestCheckFilesystemEmptyPath(t *testing.T) {
	assert.Error(t, CheckLocalFilesystem(""))
}
