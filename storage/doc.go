// Package storage abstracts the file store staging writes generated files to.
//
// Backends register a factory by provider name; storage/local is the only
// backend and is what the staging manager materializes results through.
//
//	s, err := storage.New(storage.Config{Provider: storage.ProviderLocal, BasePath: dir}, nil, log)
//	err = storage.NewByteClient(s, storage.DefaultMaxFileSize).Upload(ctx, "src/App.tsx", content)
package storage
