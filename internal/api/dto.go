package api

import "github.com/starford/rewind/internal/undo"

// OperationRequest is the request body for POST /api/ops/{type}.
type OperationRequest struct {
	Sources     []string `json:"sources" example:"/home/u/a.txt"`
	Destination string   `json:"destination" example:"/home/u/backup"`
}

// UndoStatusResponse describes what Undo would do.
type UndoStatusResponse struct {
	Available bool   `json:"available" validate:"required"`
	Text      string `json:"text" example:"Undo: Move" validate:"required"`
	Locked    bool   `json:"locked" validate:"required"`
}

// OperationDTO is one recorded file system effect.
type OperationDTO struct {
	Src       string `json:"src" example:"/home/u/a.txt" validate:"required"`
	Dst       string `json:"dst" example:"/home/u/backup/a.txt" validate:"required"`
	Target    string `json:"target,omitempty"`
	Directory bool   `json:"directory,omitempty"`
	Renamed   bool   `json:"renamed,omitempty"`
	Link      bool   `json:"link,omitempty"`
}

// CommandDTO is one undoable action.
type CommandDTO struct {
	Type        string         `json:"type" example:"move" validate:"required"`
	Label       string         `json:"label" example:"Undo: Move" validate:"required"`
	Sources     []string       `json:"sources" validate:"required"`
	Destination string         `json:"destination" validate:"required"`
	Operations  []OperationDTO `json:"operations" validate:"required"`
}

// HistoryResponse lists the history, oldest command first.
type HistoryResponse struct {
	Commands []CommandDTO `json:"commands" validate:"required"`
	Depth    int          `json:"depth" example:"3" validate:"required"`
}

// NewCommandDTO converts a command for transport.
func NewCommandDTO(c undo.Command) CommandDTO {
	dto := CommandDTO{
		Type:        c.Type.String(),
		Label:       undo.Label(c.Type),
		Sources:     c.Sources,
		Destination: c.Destination,
		Operations:  make([]OperationDTO, 0, len(c.Operations)),
	}
	if dto.Sources == nil {
		dto.Sources = []string{}
	}
	for _, op := range c.Operations {
		dto.Operations = append(dto.Operations, OperationDTO{
			Src:       op.Src,
			Dst:       op.Dst,
			Target:    op.Target,
			Directory: op.Directory,
			Renamed:   op.Renamed,
			Link:      op.Link,
		})
	}
	return dto
}
