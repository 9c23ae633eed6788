package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/logging"
)

// documentCodec encodes the session document.
type documentCodec interface {
	Marshal(doc map[string]*domain.Session) ([]byte, error)
	Unmarshal(data []byte, doc *map[string]*domain.Session) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(doc map[string]*domain.Session) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte, doc *map[string]*domain.Session) error {
	return json.Unmarshal(data, doc)
}

type yamlCodec struct{}

func (yamlCodec) Marshal(doc map[string]*domain.Session) ([]byte, error) {
	return yaml.Marshal(doc)
}

func (yamlCodec) Unmarshal(data []byte, doc *map[string]*domain.Session) error {
	return yaml.Unmarshal(data, doc)
}

func codecFor(path string) documentCodec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	default:
		return jsonCodec{}
	}
}

// FilePersister keeps every session in one human-readable document mapping session
// identifiers to session records. The format is YAML for .yaml/.yml paths and indented
// JSON otherwise. Each write replaces the file atomically.
type FilePersister struct {
	path   string
	codec  documentCodec
	logger zerolog.Logger

	mu  sync.Mutex
	doc map[string]*domain.Session
}

// NewFilePersister creates a persister for the document at path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{
		path:   path,
		codec:  codecFor(path),
		logger: logging.Component("file-persister"),
		doc:    make(map[string]*domain.Session),
	}
}

// Load reads the document. A missing file is an empty store. An unreadable document is
// moved aside so it is never overwritten, and the store starts empty.
func (p *FilePersister) Load(ctx context.Context) ([]*domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", p.path)
	}

	doc := make(map[string]*domain.Session)
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := p.codec.Unmarshal(data, &doc); err != nil {
			aside := fmt.Sprintf("%s.corrupt-%d", p.path, time.Now().UnixNano())
			if rerr := os.Rename(p.path, aside); rerr != nil {
				return nil, errors.Wrapf(err, "failed to parse %s", p.path)
			}
			p.logger.Error().Err(err).Str("moved_to", aside).Msg("session document unreadable, starting empty")
			return nil, nil
		}
	}

	out := make([]*domain.Session, 0, len(doc))
	for id, sess := range doc {
		if sess == nil {
			continue
		}
		if sess.SessionID == "" {
			sess.SessionID = id
		}
		p.doc[sess.SessionID] = sess.Clone()
		out = append(out, sess)
	}
	return out, nil
}

// SaveSession implements Persister.
func (p *FilePersister) SaveSession(ctx context.Context, session *domain.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc[session.SessionID] = session
	return p.writeLocked()
}

// AppendMessage implements Persister.
func (p *FilePersister) AppendMessage(ctx context.Context, session *domain.Session, _ domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc[session.SessionID] = session
	return p.writeLocked()
}

// Close implements Persister.
func (p *FilePersister) Close() error {
	return nil
}

func (p *FilePersister) writeLocked() error {
	data, err := p.codec.Marshal(p.doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode sessions")
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write sessions")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync sessions")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", p.path)
	}
	return nil
}
