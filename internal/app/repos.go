package app

import (
	"gorm.io/gorm"

	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

type Repos struct {
	StudentModules repos.StudentModuleRepo
	UserTags       repos.UserCourseTagRepo
	AnonymousIDs   repos.AnonymousIDRepo
	DisabledBlocks repos.DisabledBlockConfigRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		StudentModules: repos.NewStudentModuleRepo(db, log),
		UserTags:       repos.NewUserCourseTagRepo(db, log),
		AnonymousIDs:   repos.NewAnonymousIDRepo(db, log),
		DisabledBlocks: repos.NewDisabledBlockConfigRepo(db, log),
	}
}
