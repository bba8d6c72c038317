package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FileType string

const (
	TypeImage            FileType = "IMAGE"
	TypeAnalysisOriginal FileType = "ANALYSIS_ORIGINAL"
	TypeAnalysisPreview  FileType = "ANALYSIS_PREVIEW"
	TypeAnalysisArchive  FileType = "ANALYSIS_ARCHIVE"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".gif": true,
}

var rawExts = map[string]bool{
	".dng": true, ".cr2": true, ".nef": true, ".arw": true, ".raw": true,
}

// AllowedExtension reports whether a file name is acceptable for the type.
func (t FileType) AllowedExtension(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch t {
	case TypeImage:
		return imageExts[ext]
	case TypeAnalysisOriginal:
		return imageExts[ext] || rawExts[ext]
	case TypeAnalysisPreview:
		return ext == ".jpg" || ext == ".jpeg" || ext == ".png"
	case TypeAnalysisArchive:
		return ext == ".zip"
	default:
		return false
	}
}

func (t FileType) Valid() bool {
	switch t {
	case TypeImage, TypeAnalysisOriginal, TypeAnalysisPreview, TypeAnalysisArchive:
		return true
	}
	return false
}

// StoredFile is the metadata row for one blob in the object store.
type StoredFile struct {
	ID         uuid.UUID
	ProjectID  string
	FileName   string
	FileType   FileType
	FileSize   int64
	MimeType   string
	Checksum   string
	ObjectKey  string
	UploadedBy *string
	CreatedAt  time.Time
}
