package chat

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
)

const (
	ContactFileVersion = 1

	nameField   = 32
	contactSize = identity.PubKeySize + nameField + 1 + 1 + 1 + 4 + 1 + 4 + packet.MaxPathSize + 8 + 8
)

var ErrContactFile = errors.New("chat: contacts file")

// record is the fixed little-endian layout of one contact on disk.
type record struct {
	PubKey     [identity.PubKeySize]byte
	Name       [nameField]byte
	Type       uint8
	Flags      uint8
	Unused     uint8
	Reserved   uint32
	OutPathLen int8
	LastAdvert uint32
	OutPath    [packet.MaxPathSize]byte
	Lat        uint64
	Lon        uint64
}

func toRecord(c *Contact) record {
	r := record{
		Type:       uint8(c.Type),
		Flags:      c.Flags,
		OutPathLen: c.OutPathLen,
		LastAdvert: c.LastAdvert,
		Lat:        math.Float64bits(c.Lat),
		Lon:        math.Float64bits(c.Lon),
	}
	r.PubKey = c.ID.PubKey
	r.OutPath = c.path
	copy(r.Name[:nameField-1], c.Name)
	return r
}

func fromRecord(r record) *Contact {
	name := r.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	c := &Contact{
		ID:         identity.Identity{PubKey: r.PubKey},
		Name:       string(name),
		Type:       AdvertType(r.Type),
		Flags:      r.Flags,
		OutPathLen: r.OutPathLen,
		LastAdvert: r.LastAdvert,
		Lat:        math.Float64frombits(r.Lat),
		Lon:        math.Float64frombits(r.Lon),
	}
	c.path = r.OutPath
	if c.OutPathLen > packet.MaxPathSize {
		c.OutPathLen = -1
	}
	return c
}

// WriteContacts encodes a version byte followed by one record per contact.
func WriteContacts(w io.Writer, contacts []*Contact) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(ContactFileVersion); err != nil {
		return fmt.Errorf("%w: write version: %v", ErrContactFile, err)
	}
	for _, c := range contacts {
		if err := binary.Write(bw, binary.LittleEndian, toRecord(c)); err != nil {
			return fmt.Errorf("%w: write %q: %v", ErrContactFile, c.Name, err)
		}
	}
	return bw.Flush()
}

// ReadContacts decodes a contacts stream. A truncated trailing record ends
// the list; a version mismatch is logged and reading continues.
func ReadContacts(r io.Reader) ([]*Contact, error) {
	br := bufio.NewReader(r)
	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: no version byte", ErrContactFile)
	}
	if version != ContactFileVersion {
		log.Warn().Uint8("found", version).Uint8("expected", ContactFileVersion).Msg("chat: contacts file version mismatch")
	}
	var out []*Contact
	for {
		var rec record
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Int("loaded", len(out)).Msg("chat: contacts file ends mid-record")
			}
			return out, nil
		}
		out = append(out, fromRecord(rec))
	}
}

// LoadContacts reads path into t. A missing file is an empty table.
func LoadContacts(path string, t *Contacts) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrContactFile, err)
	}
	defer f.Close()
	list, err := ReadContacts(f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range list {
		if _, added, err := t.Add(c); err != nil {
			break
		} else if added {
			n++
		}
	}
	return n, nil
}

// SaveContacts writes t to path through a temp file and rename.
func SaveContacts(path string, t *Contacts) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrContactFile, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContactFile, err)
	}
	if err := WriteContacts(f, t.All()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrContactFile, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", ErrContactFile, err)
	}
	return nil
}
