package domain

import (
	"encoding/json"
	"fmt"
)

// Origin is either a found hit or a not-found reason.
type Origin struct {
	hit    *OriginHit
	reason string
}

func FoundOrigin(h OriginHit) Origin {
	return Origin{hit: &h}
}

func NotFound(reason string) Origin {
	return Origin{reason: reason}
}

func (o Origin) Found() bool { return o.hit != nil }

func (o Origin) Hit() (OriginHit, bool) {
	if o.hit == nil {
		return OriginHit{}, false
	}
	return *o.hit, true
}

func (o Origin) Reason() string { return o.reason }

// ChannelID is empty when not found.
func (o Origin) ChannelID() string {
	if o.hit == nil {
		return ""
	}
	return o.hit.ChannelID
}

type originJSON struct {
	Found  bool       `json:"found"`
	Hit    *OriginHit `json:"hit,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

func (o Origin) MarshalJSON() ([]byte, error) {
	return json.Marshal(originJSON{Found: o.hit != nil, Hit: o.hit, Reason: o.reason})
}

func (o *Origin) UnmarshalJSON(b []byte) error {
	var raw originJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Found {
		if raw.Hit == nil {
			return fmt.Errorf("origin: found without hit")
		}
		*o = FoundOrigin(*raw.Hit)
		return nil
	}
	*o = NotFound(raw.Reason)
	return nil
}

// VisualOrigin is the majority-vote result over keyframes.
type VisualOrigin struct {
	Origin         Origin  `json:"origin"`
	Confidence     float64 `json:"confidence"`
	MatchingFrames int     `json:"matching_frames"`
}

// AudioOrigin is the resolved origin of a video's or clip's audio.
type AudioOrigin struct {
	Origin        Origin  `json:"origin"`
	Confidence    float64 `json:"confidence"`
	ContentType   string  `json:"content_type,omitempty"`
	Transcription string  `json:"transcription,omitempty"`
}
