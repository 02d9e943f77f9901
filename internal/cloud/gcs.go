// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSObject is an object in a bucket.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI returns the gs:// form of the object.
func (o GCSObject) URI() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// StagingObjectName builds a unique object name under prefix for a local file.
func StagingObjectName(prefix, runID, localPath string) string {
	return path.Join(prefix, runID, uuid.NewString()+filepath.Ext(localPath))
}

// UploadFile copies a local file to bucket/name.
func UploadFile(ctx context.Context, client *storage.Client, localPath string, obj GCSObject) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	w := client.Bucket(obj.Bucket).Object(obj.Name).NewWriter(ctx)
	w.ContentType = obj.MIMEType
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s: %w", obj.URI(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", obj.URI(), err)
	}
	return nil
}

// DeleteObject removes an object. A missing object is not an error.
func DeleteObject(ctx context.Context, client *storage.Client, obj GCSObject) error {
	err := client.Bucket(obj.Bucket).Object(obj.Name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", obj.URI(), err)
	}
	return nil
}

// ParseGCSURI splits a gs://bucket/name URI.
func ParseGCSURI(uri string) (GCSObject, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	bucket, name, found := strings.Cut(rest, "/")
	if !ok || !found || bucket == "" || name == "" {
		return GCSObject{}, fmt.Errorf("not a gs:// object uri: %q", uri)
	}
	return GCSObject{Bucket: bucket, Name: name}, nil
}
