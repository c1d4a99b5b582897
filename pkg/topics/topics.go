// Package topics classifies free-form chat text into a closed set of
// topic categories via keyword membership. Detection is deterministic,
// case-insensitive and has no failure mode.
package topics

import "strings"

// Category is a topic classification bucket. The set is closed; interest
// merges reject anything outside it.
type Category string

const (
	Gaming        Category = "gaming"
	Food          Category = "food"
	Education     Category = "education"
	Work          Category = "work"
	Entertainment Category = "entertainment"
	Social        Category = "social"
	Tech          Category = "tech"
	Sports        Category = "sports"
	Music         Category = "music"
	Travel        Category = "travel"
	Pets          Category = "pets"
	Other         Category = "other"
	// General is the fallback when no keyword matches.
	General Category = "general"
)

var all = []Category{
	Gaming, Food, Education, Work, Entertainment, Social,
	Tech, Sports, Music, Travel, Pets, Other, General,
}

// All returns every known category, General last.
func All() []Category {
	out := make([]Category, len(all))
	copy(out, all)
	return out
}

// Parse maps a raw category string onto the closed enumeration.
func Parse(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range all {
		if c == known {
			return known, true
		}
	}
	return "", false
}

// keywords drives detection. Ordered so the first hit short-circuits a
// category; one match per category is enough. The chat audience is mixed
// Russian/English, so both alphabets appear.
var keywords = map[Category][]string{
	Gaming: {
		"игра", "игры", "играть", "играем", "поиграем", "катка", "каток",
		"дота", "dota", "дотка", "доту", "доте",
		"кс", "cs", "csgo", "cs2", "контра",
		"рейтинг", "ранг", "ммр", "mmr", "рейт",
		"стим", "steam", "геймер", "гейминг",
		"лол", "lol", "лига", "легенд",
		"валорант", "valorant", "вало",
		"пубг", "pubg", "апекс", "apex",
		"майнкрафт", "minecraft", "майн",
		"фортнайт", "fortnite",
		"консоль", "плойка", "ps5", "xbox",
		"керри", "саппорт", "мид", "хард", "офлейн",
	},
	Food: {
		"еда", "есть", "поесть", "кушать", "жрать",
		"пицца", "пиццу", "пиццерия",
		"суши", "роллы", "японская",
		"бургер", "макдак", "мак", "kfc",
		"заказ", "заказать", "доставка", "доставку",
		"голод", "голоден", "голодный",
		"перекус", "перекусить", "снэк",
		"завтрак", "обед", "ужин",
		"кофе", "чай", "напиток",
		"ресторан", "кафе", "столовая",
		"готовить", "рецепт", "блюдо",
	},
	Education: {
		"учёба", "учеба", "учить", "учиться",
		"экзамен", "экзамены", "зачёт", "зачет",
		"универ", "университет", "вуз", "институт",
		"школа", "колледж", "техникум",
		"лекция", "лекции", "пара", "пары",
		"препод", "преподаватель", "учитель",
		"диплом", "курсовая", "курсач",
		"сессия", "семестр", "каникулы",
		"домашка", "дз", "задание",
		"оценка", "балл",
	},
	Work: {
		"работа", "работать", "работу",
		"офис", "офисе", "удалёнка", "удаленка",
		"зарплата", "зп", "деньги", "бабки",
		"босс", "начальник", "директор",
		"коллега", "коллеги", "команда",
		"проект", "дедлайн", "задача",
		"митинг", "созвон", "звонок",
		"отпуск", "выходной", "больничный",
		"карьера", "повышение", "увольнение",
	},
	Entertainment: {
		"фильм", "кино", "сериал", "мультик",
		"смотреть", "посмотреть", "глянуть",
		"нетфликс", "netflix", "ютуб", "youtube",
		"аниме", "анимэ", "манга",
		"книга", "читать", "почитать",
		"концерт", "театр", "выставка",
		"клуб", "бар", "тусовка", "вечеринка",
	},
	Social: {
		"встреча", "встретиться", "увидеться",
		"друг", "друзья", "подруга", "товарищ",
		"девушка", "парень", "отношения",
		"семья", "родители", "мама", "папа",
		"день рождения", "др", "праздник",
		"свадьба",
	},
	Tech: {
		"комп", "компьютер", "ноут", "ноутбук",
		"телефон", "смартфон", "айфон", "iphone", "андроид",
		"программа", "приложение", "апп", "app",
		"код", "кодить", "программировать",
		"баг", "ошибка", "фикс",
		"интернет", "вайфай", "wifi",
		"обновление", "апдейт", "update",
	},
	Sports: {
		"спорт", "тренировка", "трениться",
		"зал", "качалка", "фитнес",
		"футбол", "баскетбол", "волейбол",
		"бег", "бегать", "пробежка",
		"матч", "чемпионат",
	},
	Music: {
		"музыка", "песня", "трек", "альбом",
		"слушать", "послушать",
		"выступление",
		"группа", "исполнитель", "артист",
		"спотифай", "spotify", "яндекс музыка",
	},
	Travel: {
		"путешествие", "поездка", "отпуск",
		"самолёт", "поезд", "машина",
		"отель", "гостиница", "хостел",
		"виза", "паспорт", "билет",
		"страна", "город", "море", "горы",
	},
	Pets: {
		"собака", "собак", "пёс", "щенок",
		"кот", "кошка", "котик", "котёнок",
		"питомец", "питомца", "хомяк", "попугай",
	},
}

// Detect returns every category whose keyword table matches text.
// Matching is case-insensitive substring containment; the first hit in a
// category short-circuits that category. An empty result is never
// returned: when nothing matches, the set is exactly {General}.
func Detect(text string) map[Category]struct{} {
	lower := strings.ToLower(text)
	detected := make(map[Category]struct{})

	for category, words := range keywords {
		for _, kw := range words {
			if strings.Contains(lower, kw) {
				detected[category] = struct{}{}
				break
			}
		}
	}

	if len(detected) == 0 {
		detected[General] = struct{}{}
	}
	return detected
}
