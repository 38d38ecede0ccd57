package domain

import "time"

type JobStatus string

const (
	JobStarting    JobStatus = "starting"
	JobDownloading JobStatus = "downloading"
	JobExtracting  JobStatus = "extracting"
	JobProcessing  JobStatus = "processing"
	JobComplete    JobStatus = "complete"
	JobError       JobStatus = "error"
)

func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobError
}

// Stage is the fine-grained pipeline step reported in a Job snapshot.
type Stage string

const (
	StageStarting             Stage = "starting"
	StageDownloading          Stage = "downloading"
	StageMetadata             Stage = "metadata"
	StageHashing              Stage = "hashing"
	StageAudioProcessing      Stage = "audio_processing"
	StageTranscribing         Stage = "transcribing"
	StageIdentifyingMusic     Stage = "identifying_music"
	StageSearching            Stage = "searching"
	StageAudioWarning         Stage = "audio_warning"
	StageAudioComplete        Stage = "audio_complete"
	StageExtractingFrames     Stage = "extracting_frames"
	StageUploadingFrames      Stage = "uploading_frames"
	StageGPUJobSubmit         Stage = "gpu_job_submit"
	StageGPUJobProcessing     Stage = "gpu_job_processing"
	StageGettingGPUResults    Stage = "getting_gpu_results"
	StageProcessingEmbeddings Stage = "processing_embeddings"
	StageFindingVisualOrigins Stage = "finding_visual_origins"
	StageCombiningOrigins     Stage = "combining_origins"
	StageCheckingComposite    Stage = "checking_composite"
	StagePreparingResult      Stage = "preparing_result"
	StageComplete             Stage = "complete"
	StageError                Stage = "error"
)

var stagePercent = map[Stage]int{
	StageStarting:             0,
	StageDownloading:          5,
	StageMetadata:             10,
	StageHashing:              15,
	StageAudioProcessing:      20,
	StageTranscribing:         25,
	StageIdentifyingMusic:     30,
	StageSearching:            35,
	StageAudioWarning:         35,
	StageAudioComplete:        40,
	StageExtractingFrames:     45,
	StageUploadingFrames:      50,
	StageGPUJobSubmit:         55,
	StageGPUJobProcessing:     60,
	StageGettingGPUResults:    70,
	StageProcessingEmbeddings: 75,
	StageFindingVisualOrigins: 80,
	StageCombiningOrigins:     85,
	StageCheckingComposite:    90,
	StagePreparingResult:      95,
	StageComplete:             100,
}

// Percent is the nominal progress for the stage. Error keeps the last percent.
func (s Stage) Percent() (int, bool) {
	p, ok := stagePercent[s]
	return p, ok
}

func (s Stage) Status() JobStatus {
	switch s {
	case StageStarting:
		return JobStarting
	case StageDownloading:
		return JobDownloading
	case StageMetadata, StageHashing, StageExtractingFrames, StageUploadingFrames:
		return JobExtracting
	case StageComplete:
		return JobComplete
	case StageError:
		return JobError
	default:
		return JobProcessing
	}
}

type JobKind string

const (
	JobKindVideo JobKind = "video"
	JobKindAudio JobKind = "audio"
)

// Job is a read-only progress snapshot.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Stage     Stage     `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GPUJobState is the normalized state of a remote batch embedding job.
type GPUJobState string

const (
	GPUQueued  GPUJobState = "queued"
	GPURunning GPUJobState = "running"
	GPUDone    GPUJobState = "done"
	GPUFailed  GPUJobState = "failed"
)
