package server

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the body of every JSON reply
type Response struct {
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatResponse mirrors logkv.Stat
type StatResponse struct {
	KeyNum          int   `json:"key_num"`
	SegmentNum      int   `json:"segment_num"`
	DiskSize        int64 `json:"disk_size"`
	ReclaimableSize int64 `json:"reclaimable_size"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
