package handlers

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"
	"github.com/lessonmarket/checkout-service/pkg/validator"
)

var registerOnce sync.Once

// RegisterValidators adds the lessondate and clocktime binding tags to gin's validator
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*playground.Validate)
		if !ok {
			err = fmt.Errorf("unexpected binding validator engine")
			return
		}
		if err = v.RegisterValidation("lessondate", lessonDate); err != nil {
			return
		}
		err = v.RegisterValidation("clocktime", clockTime)
	})
	return err
}

// lessonDate accepts calendar dates the draft store can normalise
func lessonDate(fl playground.FieldLevel) bool {
	_, ok := validator.NormalizeDate(fl.Field().String())
	return ok
}

// clockTime accepts 24h or 12h clock times
func clockTime(fl playground.FieldLevel) bool {
	_, ok := validator.NormalizeClock(fl.Field().String())
	return ok
}
