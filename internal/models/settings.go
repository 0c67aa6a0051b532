package models

import "encoding/json"

// Settings представляет документ настроек магазина. Кроме промокодов админ-панель хранит в нём
// произвольные ключи, они сохраняются без изменений при перезаписи файла.
type Settings struct {
	Promocodes []PromoCode                `json:"-"`
	Extra      map[string]json.RawMessage `json:"-"`
}

const settingsPromocodesKey = "promocodes"

// UnmarshalJSON разбирает документ, откладывая неизвестные ключи в Extra.
func (s *Settings) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Promocodes = nil
	if promos, ok := raw[settingsPromocodesKey]; ok {
		if err := json.Unmarshal(promos, &s.Promocodes); err != nil {
			return err
		}
		delete(raw, settingsPromocodesKey)
	}
	s.Extra = raw
	return nil
}

// MarshalJSON собирает документ обратно вместе с сохранёнными ключами.
func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Extra)+1)
	for k, v := range s.Extra {
		out[k] = v
	}
	promos := s.Promocodes
	if promos == nil {
		promos = []PromoCode{}
	}
	out[settingsPromocodesKey] = promos
	return json.Marshal(out)
}
