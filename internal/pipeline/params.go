package pipeline

// Well-known files a step leaves under its run's artifact root.
const (
	DatasetFile    = "dataset.csv"
	TrainFile      = "train.csv"
	TestFile       = "test.csv"
	ClassifierFile = "classifier.keras"
)

// ArtifactPath joins an artifact root and a file name with "/". Neither part
// is inspected or normalized, so an empty root yields "/" + file.
func ArtifactPath(root, file string) string {
	return root + "/" + file
}

// Params are the parameters of one step.
type Params interface {
	// Values renders the parameters as passed to the entry point.
	Values() map[string]string
}

// DownloadDataParams are the parameters of the download_data entry point.
type DownloadDataParams struct {
	DataURL string
}

func (p DownloadDataParams) Values() map[string]string {
	return map[string]string{"data_url": p.DataURL}
}

// PrepareTrainTestParams are the parameters of the prepare_train_test entry point.
type PrepareTrainTestParams struct {
	CSVPath string
}

func (p PrepareTrainTestParams) Values() map[string]string {
	return map[string]string{"csv_path": p.CSVPath}
}

// TrainParams are the parameters of the train entry point in the data pipeline.
type TrainParams struct {
	CSVTrainPath string
	CSVTestPath  string
}

func (p TrainParams) Values() map[string]string {
	return map[string]string{
		"csv_train_path": p.CSVTrainPath,
		"csv_test_path":  p.CSVTestPath,
	}
}

// ModelTrainParams are the parameters of the train entry point in the
// train-eval pipeline.
type ModelTrainParams struct {
	DataPath string
}

func (p ModelTrainParams) Values() map[string]string {
	return map[string]string{"data_path": p.DataPath}
}

// EvaluateParams are the parameters of the evaluate entry point.
type EvaluateParams struct {
	ModelRunURI string
}

func (p EvaluateParams) Values() map[string]string {
	return map[string]string{"model_run_uri": p.ModelRunURI}
}
