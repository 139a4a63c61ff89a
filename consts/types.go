package consts

import "time"

type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	du, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(du)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
