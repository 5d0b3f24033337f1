package model

// Profile — публичная карточка пользователя (таблица profile).
type Profile struct {
	ID             string  `json:"id"`
	UserName       string  `json:"user_name"`
	PhoneNo        string  `json:"phone_no"`
	ProfilePicture *string `json:"profile_picture"`
}

// UnknownSender подставляется вместо имени, если профиль отправителя не найден.
const UnknownSender = "Unknown"

// DisplayName возвращает имя профиля или UnknownSender для nil/пустого профиля.
func (p *Profile) DisplayName() string {
	if p == nil || p.UserName == "" {
		return UnknownSender
	}
	return p.UserName
}

// Picture возвращает URL аватара или пустую строку.
func (p *Profile) Picture() string {
	if p == nil || p.ProfilePicture == nil {
		return ""
	}
	return *p.ProfilePicture
}
