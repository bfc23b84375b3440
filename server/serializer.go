package server

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// sonicSerializer makes echo encode and bind JSON with sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	var (
		data []byte
		err  error
	)
	if indent != "" {
		data, err = sonic.ConfigStd.MarshalIndent(i, "", indent)
	} else {
		data, err = sonic.Marshal(i)
	}
	if err != nil {
		return err
	}
	_, err = c.Response().Write(data)
	return err
}

func (sonicSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := sonic.ConfigDefault.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)).SetInternal(err)
	}
	return nil
}
