package framework

// WriteState tracks whether a candidate reached disk.
type WriteState string

const (
	WriteStateNotWritten WriteState = "not_written"
	WriteStateWritten    WriteState = "written"
	WriteStateFailed     WriteState = "write_failed"
)

// CandidateFile is a generated or corrected test source under repair.
// ResolvedPath is assigned on the first successful write and carried over to
// every later correction of the same class.
type CandidateFile struct {
	DeclaredNamespace   string     `json:"declared_namespace"`
	ClassName           string     `json:"class_name"`
	RelativePath        string     `json:"relative_path"`
	ResolvedPath        string     `json:"resolved_path,omitempty"`
	Content             string     `json:"content,omitempty"`
	WriteState          WriteState `json:"write_state"`
	CorrectionIteration int        `json:"correction_iteration"`
}

// Identity is the logical identity used to match corrections to prior files.
func (c CandidateFile) Identity() string {
	if c.DeclaredNamespace == "" {
		return c.ClassName
	}
	return c.DeclaredNamespace + "." + c.ClassName
}

// SameClass reports whether two candidates describe the same logical file.
func (c CandidateFile) SameClass(other CandidateFile) bool {
	return c.ClassName == other.ClassName && c.DeclaredNamespace == other.DeclaredNamespace
}

// Path returns the resolved path when known, otherwise the initial guess.
func (c CandidateFile) Path() string {
	if c.ResolvedPath != "" {
		return c.ResolvedPath
	}
	return c.RelativePath
}
