package protocol

import "time"

// CommandRequest asks the daemon to act on the recording session.
type CommandRequest struct {
	Command   string    `json:"command"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandReply reports the state after the command was applied.
type CommandReply struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusReply mirrors the orchestrator status snapshot.
type StatusReply struct {
	State          string  `json:"state"`
	SessionID      string  `json:"session_id,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Level          float64 `json:"level"`
	LiveText       string  `json:"live_text,omitempty"`
}

// Segment is a timed piece of a transcript.
type Segment struct {
	Index     int     `json:"index"`
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID string  `json:"speaker_id,omitempty"`
}

// Transcript is the final result of a session.
type Transcript struct {
	Text              string    `json:"text"`
	Segments          []Segment `json:"segments,omitempty"`
	Language          string    `json:"language,omitempty"`
	AudioSeconds      float64   `json:"audio_seconds"`
	ProcessingSeconds float64   `json:"processing_seconds"`
	Engine            string    `json:"engine,omitempty"`
}

// SessionEvent is broadcast for every lifecycle change of a session.
type SessionEvent struct {
	Kind         string      `json:"kind"`
	SessionID    string      `json:"session_id,omitempty"`
	State        string      `json:"state,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Transcript   *Transcript `json:"transcript,omitempty"`
	Text         string      `json:"text,omitempty"`
	Confirmed    string      `json:"confirmed,omitempty"`
	Finalized    bool        `json:"finalized,omitempty"`
	LiveFallback bool        `json:"live_fallback,omitempty"`
	Inserted     bool        `json:"inserted,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// TranscribeRequest carries mono PCM16 little-endian audio for a one-shot
// transcription.
type TranscribeRequest struct {
	Engine     string   `json:"engine,omitempty"`
	SampleRate int      `json:"sample_rate"`
	Language   string   `json:"language,omitempty"`
	Vocabulary []string `json:"vocabulary,omitempty"`
	PCM        []byte   `json:"pcm"`
}

// TranscribeReply is the answer to a TranscribeRequest.
type TranscribeReply struct {
	Transcript *Transcript `json:"transcript,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
}

const (
	SubjectCommand       = "dictation.command"
	SubjectStatus        = "dictation.status"
	SubjectSessionPrefix = "dictation.session"
	SubjectTranscribe    = "dictation.stt.transcribe"
)

// SessionSubject returns the subject a lifecycle event of the given kind is
// published on.
func SessionSubject(kind string) string {
	return SubjectSessionPrefix + "." + kind
}
