package accession

import (
	"fmt"
	"time"
)

// FileModel is a data file, identified by the checksum of its contents.
type FileModel struct {
	Hash string
}

// StudyModel is a submitted study.
type StudyModel struct {
	Title          string
	Submitter      string
	SubmissionDate time.Time
}

func FileSummary(m FileModel) string {
	return m.Hash
}

func StudySummary(m StudyModel) string {
	return fmt.Sprintf("%s|%s|%s", m.Title, m.Submitter, m.SubmissionDate.UTC().Format(time.RFC3339))
}

// NewFileService accessions files by their checksum; the checksum is the accession.
func NewFileService(db Database[FileModel]) *Service[FileModel] {
	return NewService[FileModel](
		NewSingleGenerator(FileSummary),
		db,
		FileSummary,
		Identity,
	)
}

// NewStudyService accessions studies by the SHA1 of their summary.
func NewStudyService(db Database[StudyModel]) *Service[StudyModel] {
	return NewService[StudyModel](
		NewSHA1Generator[StudyModel](StudySummary),
		db,
		StudySummary,
		SHA1,
	)
}
