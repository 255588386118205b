package mock

//go:generate mockgen -package mock -destination clock.go github.com/buildbarn/bb-storage/pkg/clock Clock,Timer
//go:generate mockgen -package mock -destination filesystem.go github.com/buildbarn/bb-storage/pkg/filesystem FileReadWriter
//go:generate mockgen -package mock -destination pool.go github.com/buildbarn/bb-archivefs/pkg/filesystem/pool FilePool
//go:generate mockgen -package mock -destination util.go github.com/buildbarn/bb-storage/pkg/util ErrorLogger
//go:generate mockgen -package mock -destination vfs.go github.com/buildbarn/bb-archivefs/pkg/vfs Controller,InputSocket,OutputSocket
//go:generate mockgen -package mock -destination aliases.go github.com/buildbarn/bb-archivefs/internal/mock/aliases ReadCloser,WriteCloser
