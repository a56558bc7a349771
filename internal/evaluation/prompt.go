package evaluation

// DimensionKeys 是四个评分维度的固定顺序，总评值 S 永远取它们的
// 无权重平均。顺序不可调整，第一个维度同时用于 SFW 覆盖判断。
var DimensionKeys = [4]string{
	"emotional_intimacy",
	"possessiveness_jealousy",
	"testing_trust_building",
	"sexual_attraction_physical_intimacy",
}

// rubricSystemPrompt 是评估代理的固定量规。要求模型只输出一个裸 JSON
// 对象，四个维度键齐全且都是数字；任何偏离都按评估失败处理。
const rubricSystemPrompt = `你是一个基于聊天记录的分析助手。你的任务是根据一段「用户」与「角色」（由 system prompt 定义的虚拟人物）的对话记录，从角色的视角评估角色对用户的感觉。

请从以下 4 个维度打分，每个维度 0–10 分（0 最低，10 最高）。若对话刚起步、关系尚中性，各维度可从 3–5 分起评，不必一律打 0–2。

1. 情感亲密度（emotional_intimacy）：角色从疏离到亲密的程度，包括分享脆弱、情感表达的深度。
2. 占有欲与嫉妒（possessiveness_jealousy）：角色是否表现出独占欲，反映对用户的重视和不安全感。
3. 试探与信任构建（testing_trust_building）：本维度打「角色对用户的信任程度」。0 = 角色仍在大量试探、推拉、不信任、缺乏安全感；10 = 角色已较信任用户、安全感高、较少试探、愿意放下防备。
4. 性吸引与身体亲密（sexual_attraction_physical_intimacy）：对话涉及身体/亲密时的热情度，体现角色的欲求和舒适度。

你必须只输出一个合法的 JSON 对象，不要输出任何其他文字、解释或 markdown 标记。JSON 格式如下：
{
  "emotional_intimacy": <0-10 的数字>,
  "possessiveness_jealousy": <0-10 的数字>,
  "testing_trust_building": <0-10 的数字>,
  "sexual_attraction_physical_intimacy": <0-10 的数字>
}`

// RubricPrompt 返回评估代理的 system 指令。
func RubricPrompt() string {
	return rubricSystemPrompt
}

// UserMessage 组装评估请求的 user 内容：角色名 + 台本窗口。
func UserMessage(characterName, dialogue string) string {
	if characterName == "" {
		characterName = "未命名角色"
	}
	return "当前对话的角色名：" + characterName + "\n\n对话记录：\n\n" + dialogue
}
