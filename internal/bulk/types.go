package bulk

import "time"

// Config contains bulk anonymization settings.
type Config struct {
	TextColumn     string `yaml:"text_column" mapstructure:"text_column"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	ProgressReport int    `yaml:"progress_report" mapstructure:"progress_report"`
	DryRun         bool   `yaml:"dry_run" mapstructure:"dry_run"`
}

// Stats is the outcome of one dataset pass.
type Stats struct {
	Processed int64         `json:"processed"`
	Replaced  int64         `json:"replaced"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// FileFormat represents supported dataset formats.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects the dataset format from the file extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case hasSuffix(filename, ".csv"):
		return FormatCSV
	case hasSuffix(filename, ".parquet"):
		return FormatParquet
	case hasSuffix(filename, ".json"), hasSuffix(filename, ".jsonl"):
		return FormatJSON
	default:
		return FormatCSV
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// parquetRecord is the row shape read from parquet datasets; the text
// column there is fixed by the schema tag.
type parquetRecord struct {
	Text string `parquet:"text"`
}
