package utils

import (
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func PackToByteArray(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warnf("cannot marshal %T", v)
		return make([]byte, 0)
	}
	return data
}
