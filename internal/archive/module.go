package archive

import (
	"go.uber.org/fx"

	"github.com/engagic/engagic/domain/extract"
)

// Module provides the packet archive and binds it to the extractor
var Module = fx.Module("archive",
	fx.Provide(
		NewService,
		func(s *Service) extract.Archiver { return s },
	),
)
