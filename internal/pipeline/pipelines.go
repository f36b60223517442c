package pipeline

// DataPipeline downloads a dataset, splits it and trains on the split:
// download_data, prepare_train_test, train.
func DataPipeline(dataURL string) Pipeline {
	return Pipeline{
		Name: "data",
		Steps: []Step{
			{
				EntryPoint: "download_data",
				Params: func(string) Params {
					return DownloadDataParams{DataURL: dataURL}
				},
			},
			{
				EntryPoint: "prepare_train_test",
				Params: func(root string) Params {
					return PrepareTrainTestParams{CSVPath: ArtifactPath(root, DatasetFile)}
				},
			},
			{
				EntryPoint: "train",
				Params: func(root string) Params {
					return TrainParams{
						CSVTrainPath: ArtifactPath(root, TrainFile),
						CSVTestPath:  ArtifactPath(root, TestFile),
					}
				},
			},
		},
	}
}

// TrainEvaluatePipeline trains a model and evaluates the trained classifier.
func TrainEvaluatePipeline(dataPath string) Pipeline {
	return Pipeline{
		Name: "train-eval",
		Steps: []Step{
			{
				EntryPoint: "train",
				Params: func(string) Params {
					return ModelTrainParams{DataPath: dataPath}
				},
			},
			{
				EntryPoint: "evaluate",
				Params: func(root string) Params {
					return EvaluateParams{ModelRunURI: ArtifactPath(root, ClassifierFile)}
				},
			},
		},
	}
}
