package backend

import (
	"encoding/json"
	"fmt"
	"os"
)

type SubtitleTrack struct {
	Ext      string `json:"ext"`
	Filepath string `json:"filepath,omitempty"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Thumbnails are ordered worst to best by the backend.
type Thumbnail struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	Filepath string `json:"filepath,omitempty"`
}

// VideoInfo is one resolved item's metadata. Only the fields the
// orchestrator touches are typed; everything else the backend reported is
// retained verbatim so a persisted info file can resume a download without
// re-resolving metadata.
type VideoInfo struct {
	ID                 string
	Title              string
	Ext                string
	Filepath           string
	Subtitles          map[string]json.RawMessage
	RequestedSubtitles map[string]*SubtitleTrack
	AutomaticCaptions  map[string]json.RawMessage
	Thumbnails         []Thumbnail

	extra map[string]json.RawMessage
}

func (v *VideoInfo) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	take := func(key string, target any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		delete(fields, key)
		if string(raw) == "null" {
			return nil
		}
		return json.Unmarshal(raw, target)
	}

	*v = VideoInfo{}
	if err := take("id", &v.ID); err != nil {
		return fmt.Errorf("parse id: %w", err)
	}
	if err := take("title", &v.Title); err != nil {
		return fmt.Errorf("parse title: %w", err)
	}
	if err := take("ext", &v.Ext); err != nil {
		return fmt.Errorf("parse ext: %w", err)
	}
	if err := take("filepath", &v.Filepath); err != nil {
		return fmt.Errorf("parse filepath: %w", err)
	}
	if err := take("subtitles", &v.Subtitles); err != nil {
		return fmt.Errorf("parse subtitles: %w", err)
	}
	if err := take("requested_subtitles", &v.RequestedSubtitles); err != nil {
		return fmt.Errorf("parse requested_subtitles: %w", err)
	}
	if err := take("automatic_captions", &v.AutomaticCaptions); err != nil {
		return fmt.Errorf("parse automatic_captions: %w", err)
	}
	if err := take("thumbnails", &v.Thumbnails); err != nil {
		return fmt.Errorf("parse thumbnails: %w", err)
	}
	if len(fields) > 0 {
		v.extra = fields
	}
	return nil
}

func (v VideoInfo) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(v.extra)+8)
	for key, raw := range v.extra {
		fields[key] = raw
	}

	put := func(key string, value any, omit bool) error {
		if omit {
			delete(fields, key)
			return nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}

	if err := put("id", v.ID, v.ID == ""); err != nil {
		return nil, err
	}
	if err := put("title", v.Title, v.Title == ""); err != nil {
		return nil, err
	}
	if err := put("ext", v.Ext, v.Ext == ""); err != nil {
		return nil, err
	}
	if err := put("filepath", v.Filepath, v.Filepath == ""); err != nil {
		return nil, err
	}
	if err := put("subtitles", v.Subtitles, v.Subtitles == nil); err != nil {
		return nil, err
	}
	if err := put("requested_subtitles", v.RequestedSubtitles, v.RequestedSubtitles == nil); err != nil {
		return nil, err
	}
	if err := put("automatic_captions", v.AutomaticCaptions, v.AutomaticCaptions == nil); err != nil {
		return nil, err
	}
	if err := put("thumbnails", v.Thumbnails, v.Thumbnails == nil); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func LoadInfoFile(path string) (*VideoInfo, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read info file %q: %w", path, err)
	}
	info := &VideoInfo{}
	if err := json.Unmarshal(payload, info); err != nil {
		return nil, fmt.Errorf("parse info file %q: %w", path, err)
	}
	return info, nil
}

func (v *VideoInfo) SaveInfoFile(path string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write info file %q: %w", path, err)
	}
	return nil
}
