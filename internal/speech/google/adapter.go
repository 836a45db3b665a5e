// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speechapi "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/echolog/echolog-server/internal/speech"
	"google.golang.org/api/option"
)

const serviceName = "speech"

// recognizer is the slice of the client the adapter depends on.
type recognizer interface {
	start(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error)
	poll(ctx context.Context, name string) (pollResult, error)
}

type pollResult struct {
	done     bool
	response *speechpb.LongRunningRecognizeResponse
	metadata *speechpb.LongRunningRecognizeMetadata
	jobErr   error
}

// Adapter implements speech.Transcriber with LongRunningRecognize.
type Adapter struct {
	client *speechapi.Client
	rec    recognizer
}

// New creates a client. credentialsFile is optional; application default
// credentials are used otherwise.
func New(ctx context.Context, credentialsFile string) (*Adapter, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speechapi.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech: new client: %w", err)
	}
	return &Adapter{client: c, rec: clientRecognizer{client: c}}, nil
}

// Close releases the client.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Submit starts a long-running recognition job and returns its operation name.
func (a *Adapter) Submit(ctx context.Context, audio speech.Audio, cfg speech.Config) (string, error) {
	req, err := buildRequest(audio, cfg)
	if err != nil {
		return "", err
	}
	return metrics.ObserveCall(serviceName, "submit", func() (string, error) {
		return a.rec.start(ctx, req)
	})
}

// Poll checks the operation once without blocking for completion.
func (a *Adapter) Poll(ctx context.Context, jobName string) (speech.Status, error) {
	res, err := metrics.ObserveCall(serviceName, "poll", func() (pollResult, error) {
		return a.rec.poll(ctx, jobName)
	})
	if err != nil {
		return speech.Status{}, err
	}

	status := speech.Status{Done: res.done, Progress: progressOf(res.metadata)}
	if !res.done {
		return status, nil
	}
	if res.jobErr != nil {
		status.Err = res.jobErr
		return status, nil
	}
	status.Segments = segmentsOf(res.response)
	if len(status.Segments) == 0 {
		status.Err = speech.ErrNoResults
	}
	return status, nil
}

func buildRequest(audio speech.Audio, cfg speech.Config) (*speechpb.LongRunningRecognizeRequest, error) {
	recognitionAudio := &speechpb.RecognitionAudio{}
	switch {
	case audio.URI != "":
		recognitionAudio.AudioSource = &speechpb.RecognitionAudio_Uri{Uri: audio.URI}
	case len(audio.Content) > 0:
		recognitionAudio.AudioSource = &speechpb.RecognitionAudio_Content{Content: audio.Content}
	default:
		return nil, errors.New("speech: audio has neither uri nor content")
	}

	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(cfg.Encoding),
			SampleRateHertz:            cfg.SampleRateHertz,
			LanguageCode:               cfg.LanguageCode,
			EnableAutomaticPunctuation: cfg.EnableAutomaticPunctuation,
			EnableWordTimeOffsets:      cfg.EnableWordTimeOffsets,
			Model:                      cfg.Model,
			UseEnhanced:                cfg.UseEnhanced,
		},
		Audio: recognitionAudio,
	}, nil
}

// parseAudioEncoding converts a string encoding name to the protobuf enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	name := strings.ToUpper(strings.TrimSpace(encoding))
	if value, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && value != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(value)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

func segmentsOf(resp *speechpb.LongRunningRecognizeResponse) []string {
	if resp == nil {
		return nil
	}
	segments := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		segments = append(segments, alternatives[0].GetTranscript())
	}
	return segments
}

func progressOf(meta *speechpb.LongRunningRecognizeMetadata) speech.Progress {
	if meta == nil {
		return speech.Progress{}
	}
	progress := speech.Progress{Percent: meta.GetProgressPercent()}
	if ts := meta.GetStartTime(); ts != nil {
		progress.StartTime = ts.AsTime()
	}
	if ts := meta.GetLastUpdateTime(); ts != nil {
		progress.LastUpdate = ts.AsTime()
	}
	return progress
}

type clientRecognizer struct {
	client *speechapi.Client
}

func (c clientRecognizer) start(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (string, error) {
	op, err := c.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", err
	}
	return op.Name(), nil
}

func (c clientRecognizer) poll(ctx context.Context, name string) (pollResult, error) {
	op := c.client.LongRunningRecognizeOperation(name)
	resp, err := op.Poll(ctx)
	meta, _ := op.Metadata()
	if err != nil {
		if op.Done() {
			return pollResult{done: true, metadata: meta, jobErr: err}, nil
		}
		return pollResult{}, err
	}
	return pollResult{done: op.Done(), response: resp, metadata: meta}, nil
}
