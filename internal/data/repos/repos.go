package repos

import (
	"gorm.io/gorm"

	"github.com/openlearnhq/xblock-runtime/internal/data/repos/config"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos/state"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

type StudentModuleRepo = state.StudentModuleRepo
type UserCourseTagRepo = state.UserCourseTagRepo
type AnonymousIDRepo = state.AnonymousIDRepo
type SaveOptions = state.SaveOptions

type DisabledBlockConfigRepo = config.DisabledBlockConfigRepo

func NewStudentModuleRepo(db *gorm.DB, baseLog *logger.Logger) StudentModuleRepo {
	return state.NewStudentModuleRepo(db, baseLog)
}
func NewUserCourseTagRepo(db *gorm.DB, baseLog *logger.Logger) UserCourseTagRepo {
	return state.NewUserCourseTagRepo(db, baseLog)
}
func NewAnonymousIDRepo(db *gorm.DB, baseLog *logger.Logger) AnonymousIDRepo {
	return state.NewAnonymousIDRepo(db, baseLog)
}
func NewDisabledBlockConfigRepo(db *gorm.DB, baseLog *logger.Logger) DisabledBlockConfigRepo {
	return config.NewDisabledBlockConfigRepo(db, baseLog)
}
