package inspector

import (
	"fmt"
	"io/fs"
	"mime"
	"path"
	"strings"

	"github.com/c360/tensorscope/errors"
)

// assetRoot is the only top-level segment assets may be served from.
const assetRoot = "static"

// Asset is a static file ready to send.
type Asset struct {
	Body        []byte
	ContentType string
}

// ServeAsset returns the asset at requestPath, the part of the URL after the
// plugin prefix (for example "static/index.js"). The path is normalized
// first and must stay under the static directory. Every failure is the same
// not-found error.
func (s *Service) ServeAsset(requestPath string) (*Asset, error) {
	name, ok := assetName(requestPath)
	if !ok {
		return nil, assetNotFound()
	}

	body, err := fs.ReadFile(s.assets, name)
	if err != nil {
		s.logger.Debug("Asset read failed", "path", name, "error", err)
		return nil, assetNotFound()
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Asset{Body: body, ContentType: contentType}, nil
}

// assetName normalizes p and checks it names a file below assetRoot.
func assetName(p string) (string, bool) {
	if strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
		return "", false
	}
	cleaned := path.Clean(strings.TrimLeft(p, "/"))
	first, rest, found := strings.Cut(cleaned, "/")
	if first != assetRoot || !found || rest == "" {
		return "", false
	}
	if !fs.ValidPath(cleaned) {
		return "", false
	}
	return cleaned, true
}

func assetNotFound() error {
	return errors.WrapNotFound(fmt.Errorf("asset %w", errors.ErrNotFound),
		"Service", "ServeAsset", "resolve asset")
}
