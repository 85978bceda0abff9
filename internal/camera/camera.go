// Package camera provides the frame sources: still images, image folders,
// ffmpeg-decoded device and network streams, and polled HTTP snapshots.
package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"candyscope/internal/pipeline"
)

// Kind classifies a source descriptor
type Kind string

const (
	KindImage    Kind = "image"
	KindFolder   Kind = "folder"
	KindDevice   Kind = "device"
	KindStream   Kind = "stream"   // rtsp/http video streams and video files, decoded by ffmpeg
	KindSnapshot Kind = "snapshot" // http endpoint serving one JPEG per request
)

var (
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
	videoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}

	usbPattern = regexp.MustCompile(`^usb(\d+)$`)
)

// Options configures sources created by Open
type Options struct {
	Width             int // Resolution override, 0 keeps native
	Height            int
	FPS               int
	FirstFrameTimeout time.Duration
	SnapshotTimeout   time.Duration
	Logger            *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = 15
	}
	if o.FirstFrameTimeout <= 0 {
		o.FirstFrameTimeout = 10 * time.Second
	}
	if o.SnapshotTimeout <= 0 {
		o.SnapshotTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Descriptor is a classified source
type Descriptor struct {
	Raw    string
	Kind   Kind
	Target string // Device path, URL or file path
}

// Describe classifies a source string such as "usb0", "/dev/video2",
// "rtsp://...", "http://host/snapshot.jpg", "clip.mp4" or "photo.jpg"
func Describe(source string) (Descriptor, error) {
	d := Descriptor{Raw: source, Target: source}
	switch {
	case source == "":
		return d, errors.Wrap(pipeline.ErrSourceUnavailable, "empty source")
	case source == "picamera":
		return d, errors.Wrap(pipeline.ErrSourceUnavailable, "picamera sources are not supported, use the v4l2 device instead")
	case usbPattern.MatchString(source):
		d.Kind = KindDevice
		d.Target = "/dev/video" + usbPattern.FindStringSubmatch(source)[1]
	case strings.HasPrefix(source, "/dev/"):
		d.Kind = KindDevice
	case isHTTPImageEndpoint(source):
		d.Kind = KindSnapshot
	case isNetworkSource(source):
		d.Kind = KindStream
	case hasExtension(source, imageExtensions):
		d.Kind = KindImage
	case hasExtension(source, videoExtensions):
		d.Kind = KindStream
	default:
		info, err := os.Stat(source)
		if err != nil {
			return d, errors.Wrapf(pipeline.ErrSourceUnavailable, "unknown source %q", source)
		}
		if !info.IsDir() {
			return d, errors.Wrapf(pipeline.ErrSourceUnavailable, "unsupported file type %q", source)
		}
		d.Kind = KindFolder
	}
	return d, nil
}

// Open builds an unopened frame source for a descriptor string
func Open(source string, opts Options) (pipeline.FrameSource, error) {
	d, err := Describe(source)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	var src pipeline.FrameSource
	switch d.Kind {
	case KindImage:
		src = NewImageFile(d.Target)
	case KindDevice, KindStream:
		src = NewStreamSource(d, opts)
	case KindSnapshot:
		src = NewSnapshotSource(d.Target, opts)
	case KindFolder:
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "%s is a folder, analyze it instead", source)
	}

	if opts.Width > 0 && opts.Height > 0 {
		src = Resized(src, opts.Width, opts.Height)
	}
	return src, nil
}

// ParseResolution parses "WIDTHxHEIGHT"
func ParseResolution(s string) (int, int, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q, want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution width in %q", s)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution height in %q", s)
	}
	return w, h, nil
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// isHTTPImageEndpoint checks if the device is an HTTP image endpoint
func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "snapshot"))
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
